package log

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger on a logrus entry. Badger's
// info output (compactions, replay progress) is logged at debug level.
type BadgerLogrusAdapter struct {
	entry *logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry: entry}
}

// Badger terminates its messages with a newline
func line(f string, v []any) string {
	return strings.TrimRight(fmt.Sprintf(f, v...), "\n")
}

func (l *BadgerLogrusAdapter) Errorf(f string, v ...any)   { l.entry.Error(line(f, v)) }
func (l *BadgerLogrusAdapter) Warningf(f string, v ...any) { l.entry.Warn(line(f, v)) }
func (l *BadgerLogrusAdapter) Infof(f string, v ...any)    { l.entry.Debug(line(f, v)) }
func (l *BadgerLogrusAdapter) Debugf(f string, v ...any)   { l.entry.Trace(line(f, v)) }
