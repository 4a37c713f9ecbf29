package userauth_test

import (
	"testing"

	"go.uber.org/goleak"
)

// session managers keep a go-cache janitor alive until they are collected
var ignoreCacheJanitor = goleak.IgnoreAnyFunction("github.com/patrickmn/go-cache.(*janitor).Run")

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, ignoreCacheJanitor)
}
