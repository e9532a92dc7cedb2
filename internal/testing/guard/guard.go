// Package guard sets LOOMTALE_TEST_MODE for any test binary that imports it.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("LOOMTALE_TEST_MODE") == "" {
			_ = os.Setenv("LOOMTALE_TEST_MODE", "1")
		}
	})
}
