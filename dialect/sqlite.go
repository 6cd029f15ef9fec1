package dialect

import (
	"github.com/mattn/go-sqlite3"
)

func init() {
	Register("sqlite3", &driverBackend{drv: &sqlite3.SQLiteDriver{}})
}
