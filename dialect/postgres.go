package dialect

import (
	"github.com/lib/pq"
)

func init() {
	Register("postgres", &driverBackend{drv: &pq.Driver{}})
}
