package config

import (
	"testing"
	"time"
)

func TestDefaultHasSaneLifecycleAndClientValues(t *testing.T) {
	cfg := Default()
	if cfg.Lifecycle.WaitPollInterval != 200*time.Millisecond {
		t.Errorf("WaitPollInterval = %v, want 200ms", cfg.Lifecycle.WaitPollInterval)
	}
	if cfg.Lifecycle.WatcherPollInterval != 15*time.Second {
		t.Errorf("WatcherPollInterval = %v, want 15s", cfg.Lifecycle.WatcherPollInterval)
	}
	if cfg.Client.IPCTimeout != 5*time.Second {
		t.Errorf("IPCTimeout = %v, want 5s", cfg.Client.IPCTimeout)
	}
	if cfg.Client.ConnectTimeout != 2*time.Second {
		t.Errorf("ConnectTimeout = %v, want 2s", cfg.Client.ConnectTimeout)
	}
}

func TestApplyEnvOverridesTimeoutsAndPollIntervals(t *testing.T) {
	vars := map[string]string{
		"OJ_TIMEOUT_IPC_MS":     "1234",
		"OJ_TIMEOUT_CONNECT_MS": "500",
		"OJ_TIMEOUT_EXIT_MS":    "9000",
		"OJ_CONNECT_POLL_MS":    "50",
		"OJ_WAIT_POLL_MS":       "250",
		"OJ_RUN_WAIT_MS":        "3000",
		"OJ_WATCHER_POLL_MS":    "20000",
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg := Default()
	applyEnv(cfg)

	if cfg.Client.IPCTimeout != 1234*time.Millisecond {
		t.Errorf("IPCTimeout = %v, want 1234ms", cfg.Client.IPCTimeout)
	}
	if cfg.Client.ConnectTimeout != 500*time.Millisecond {
		t.Errorf("ConnectTimeout = %v, want 500ms", cfg.Client.ConnectTimeout)
	}
	if cfg.Lifecycle.AgentStopGracePeriod != 9000*time.Millisecond {
		t.Errorf("AgentStopGracePeriod = %v, want 9000ms", cfg.Lifecycle.AgentStopGracePeriod)
	}
	if cfg.Client.ConnectPollInterval != 50*time.Millisecond {
		t.Errorf("ConnectPollInterval = %v, want 50ms", cfg.Client.ConnectPollInterval)
	}
	if cfg.Lifecycle.WaitPollInterval != 250*time.Millisecond {
		t.Errorf("WaitPollInterval = %v, want 250ms", cfg.Lifecycle.WaitPollInterval)
	}
	if cfg.Lifecycle.RunWaitMS != 3000 {
		t.Errorf("RunWaitMS = %d, want 3000", cfg.Lifecycle.RunWaitMS)
	}
	if cfg.Lifecycle.WatcherPollInterval != 20000*time.Millisecond {
		t.Errorf("WatcherPollInterval = %v, want 20000ms", cfg.Lifecycle.WatcherPollInterval)
	}
}

func TestApplyEnvIgnoresGarbageMillis(t *testing.T) {
	t.Setenv("OJ_TIMEOUT_IPC_MS", "not-a-number")
	t.Setenv("OJ_RUN_WAIT_MS", "also-not-a-number")

	cfg := Default()
	want := cfg.Client.IPCTimeout
	wantRun := cfg.Lifecycle.RunWaitMS
	applyEnv(cfg)

	if cfg.Client.IPCTimeout != want {
		t.Errorf("IPCTimeout changed on garbage input: got %v, want %v", cfg.Client.IPCTimeout, want)
	}
	if cfg.Lifecycle.RunWaitMS != wantRun {
		t.Errorf("RunWaitMS changed on garbage input: got %d, want %d", cfg.Lifecycle.RunWaitMS, wantRun)
	}
}

func TestEnvMillisMissingVar(t *testing.T) {
	if _, ok := envMillis("OJ_THIS_VAR_DOES_NOT_EXIST"); ok {
		t.Error("expected ok=false for an unset variable")
	}
}
