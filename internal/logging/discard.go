package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Discard 返回丢弃全部输出的 Set，供测试与 -check-config 场景使用。
func Discard() *Set {
	base := logrus.New()
	base.SetOutput(io.Discard)

	set := &Set{
		base:    base,
		entries: make(map[string]*logrus.Entry, 4),
	}
	for _, name := range Subsystems() {
		set.entries[name] = base.WithField("subsystem", name)
	}
	return set
}
