// Package enforce panics on violated invariants: programming-bug conditions
// that should never occur given correct upstream logic, as distinct from
// expected runtime failures (NotFound, Transient, MalformedBlock, ...) which
// are always returned as typed errors instead.
package enforce

import (
	"math"

	"github.com/greymass/traceindex/internal/logger"
)

func init() {
	CheckCompiler()
}

func ENFORCE(query interface{}, args ...interface{}) {
	switch t := query.(type) {
	case bool:
		if !t {
			logger.Printf("enforce", "ENFORCE: %v", args)
			panic(0)
		}
	case error:
		if t != nil {
			logger.Printf("enforce", "ENFORCE: %v", args)
			panic(t)
		}
	}
}

func CheckCompiler() {
	myint := int(math.MaxInt64)
	myint64 := int64(math.MaxInt64)
	ENFORCE(uint64(myint) == uint64(myint64), "must be on a 64 bit system")
}
