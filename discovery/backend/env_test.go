package backend

import "testing"

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_ENV_BOOL", "")
	if envBool("TEST_ENV_BOOL") {
		t.Error("empty value should be false")
	}
	t.Setenv("TEST_ENV_BOOL", "0")
	if envBool("TEST_ENV_BOOL") {
		t.Error("\"0\" should be false")
	}
	t.Setenv("TEST_ENV_BOOL", "false")
	if envBool("TEST_ENV_BOOL") {
		t.Error("\"false\" should be false")
	}
	t.Setenv("TEST_ENV_BOOL", "1")
	if !envBool("TEST_ENV_BOOL") {
		t.Error("\"1\" should be true")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("TEST_ENV_INT", "")
	if got := envInt("TEST_ENV_INT", 45); got != 45 {
		t.Errorf("expected default 45, got %d", got)
	}
	t.Setenv("TEST_ENV_INT", "90")
	if got := envInt("TEST_ENV_INT", 45); got != 90 {
		t.Errorf("expected 90, got %d", got)
	}
	t.Setenv("TEST_ENV_INT", "-5")
	if got := envInt("TEST_ENV_INT", 45); got != 45 {
		t.Errorf("expected default for negative value, got %d", got)
	}
	t.Setenv("TEST_ENV_INT", "not-a-number")
	if got := envInt("TEST_ENV_INT", 45); got != 45 {
		t.Errorf("expected default for invalid value, got %d", got)
	}
}
