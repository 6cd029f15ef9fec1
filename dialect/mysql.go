package dialect

import (
	"github.com/go-sql-driver/mysql"
)

func init() {
	Register("mysql", &driverBackend{drv: &mysql.MySQLDriver{}})
}
