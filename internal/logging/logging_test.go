package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	. "github.com/smartystreets/goconvey/convey"
)

func TestNew(t *testing.T) {
	Convey("New", t, func() {
		Convey("json at warn", func() {
			l, err := New("warn", "json")
			So(err, ShouldBeNil)
			So(l.Core().Enabled(zapcore.WarnLevel), ShouldBeTrue)
			So(l.Core().Enabled(zapcore.InfoLevel), ShouldBeFalse)
		})

		Convey("console at debug", func() {
			l, err := New("debug", "console")
			So(err, ShouldBeNil)
			So(l.Core().Enabled(zapcore.DebugLevel), ShouldBeTrue)
		})

		Convey("bad level", func() {
			_, err := New("loud", "json")
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "parse log level")
		})

		Convey("bad format", func() {
			_, err := New("info", "xml")
			So(err, ShouldNotBeNil)
		})
	})
}
