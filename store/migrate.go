package store

import (
	"embed"
	"fmt"
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

func migrate(l log.Logger, db *sqlx.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(gooseLogger{l: log.With(l, "component", "goose")})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db.DB, "migrations")
}

// gooseLogger routes goose output through the service logger.
type gooseLogger struct {
	l log.Logger
}

func (g gooseLogger) Fatal(v ...interface{}) {
	level.Error(g.l).Log("msg", fmt.Sprint(v...))
	os.Exit(1)
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	level.Error(g.l).Log("msg", fmt.Sprintf(format, v...))
	os.Exit(1)
}

func (g gooseLogger) Print(v ...interface{}) {
	level.Debug(g.l).Log("msg", fmt.Sprint(v...))
}

func (g gooseLogger) Println(v ...interface{}) {
	level.Debug(g.l).Log("msg", fmt.Sprint(v...))
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	level.Debug(g.l).Log("msg", fmt.Sprintf(format, v...))
}
