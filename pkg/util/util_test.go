// util_test.go: ClampInt / Env* / LoadFromEnv 表驱动测试。
package util

import (
	"reflect"
	"testing"
	"time"
)

func TestClampInt(t *testing.T) {
	tests := []struct {
		name      string
		v, lo, hi int
		want      int
	}{
		{"below_min", -1, 0, 10, 0},
		{"above_max", 20, 0, 10, 10},
		{"in_range", 5, 0, 10, 5},
		{"at_min", 0, 0, 10, 0},
		{"at_max", 10, 0, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampInt(tt.v, tt.lo, tt.hi)
			if got != tt.want {
				t.Errorf("ClampInt(%d, %d, %d) = %d, want %d", tt.v, tt.lo, tt.hi, got, tt.want)
			}
		})
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("UTIL_TEST_DUR", "45s")
	if got := EnvDuration("UTIL_TEST_DUR", time.Second, 0); got != 45*time.Second {
		t.Errorf("EnvDuration = %v, want 45s", got)
	}
	t.Setenv("UTIL_TEST_DUR", "bogus")
	if got := EnvDuration("UTIL_TEST_DUR", time.Second, 0); got != time.Second {
		t.Errorf("EnvDuration invalid = %v, want default 1s", got)
	}
	t.Setenv("UTIL_TEST_DUR", "10ms")
	if got := EnvDuration("UTIL_TEST_DUR", time.Second, time.Second); got != time.Second {
		t.Errorf("EnvDuration below min = %v, want 1s", got)
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" result, task_summary ,,")
	want := []string{"result", "task_summary"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitList = %v, want %v", got, want)
	}
}

func TestLoadFromEnv(t *testing.T) {
	type sample struct {
		Name    string        `env:"UTIL_TEST_NAME" default:"console"`
		Port    int           `env:"UTIL_TEST_PORT" default:"8080" min:"1"`
		Debug   bool          `env:"UTIL_TEST_DEBUG" default:"false"`
		Timeout time.Duration `env:"UTIL_TEST_TIMEOUT" default:"5s" min:"1s"`
		Types   []string      `env:"UTIL_TEST_TYPES" default:"a,b"`
		Ignored string
	}

	t.Setenv("UTIL_TEST_PORT", "0")
	t.Setenv("UTIL_TEST_DEBUG", "yes")
	t.Setenv("UTIL_TEST_TYPES", "x, y ,z")

	var s sample
	LoadFromEnv(&s)

	if s.Name != "console" {
		t.Errorf("Name = %q, want console", s.Name)
	}
	if s.Port != 1 {
		t.Errorf("Port = %d, want clamped 1", s.Port)
	}
	if !s.Debug {
		t.Error("Debug = false, want true")
	}
	if s.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", s.Timeout)
	}
	if !reflect.DeepEqual(s.Types, []string{"x", "y", "z"}) {
		t.Errorf("Types = %v", s.Types)
	}
}

func TestLoadFromEnvRejectsNonPointer(t *testing.T) {
	// 非指针参数只记录错误, 不 panic
	LoadFromEnv(struct{}{})
	LoadFromEnv(nil)
}
