package config

import (
	"sync"
	"testing"
)

func resetSingleton() {
	current.Store(nil)
	loadOnce = sync.Once{}
}

func TestInitialize(t *testing.T) {
	resetSingleton()
	t.Cleanup(resetSingleton)

	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:9443\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	cfg := GetConfig()
	if cfg == nil {
		t.Fatal("Expected non-nil config after initialization")
	}
	if cfg.Server.ListenAddress != "127.0.0.1:9443" {
		t.Errorf("Expected listen address %q, got %q", "127.0.0.1:9443", cfg.Server.ListenAddress)
	}
}

func TestInitialize_MultipleCallsIgnored(t *testing.T) {
	resetSingleton()
	t.Cleanup(resetSingleton)

	first := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\n")
	second := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:2222\"\n")

	if err := Initialize(first); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := Initialize(second); err != nil {
		t.Fatalf("second Initialize returned error: %v", err)
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:1111" {
		t.Errorf("Expected first config to win, got %q", got)
	}
}

func TestReloadConfig(t *testing.T) {
	resetSingleton()
	t.Cleanup(resetSingleton)

	path := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:1111\"\n")
	if err := Initialize(path); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	bad := writeConfig(t, "limits:\n  backend: \"etcd\"\n")
	if err := ReloadConfig(bad); err == nil {
		t.Fatal("Expected reload of invalid config to fail")
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:1111" {
		t.Errorf("Expected previous config to survive a failed reload, got %q", got)
	}

	good := writeConfig(t, "server:\n  listen_address: \"127.0.0.1:3333\"\n")
	if err := ReloadConfig(good); err != nil {
		t.Fatalf("ReloadConfig failed: %v", err)
	}
	if got := GetConfig().Server.ListenAddress; got != "127.0.0.1:3333" {
		t.Errorf("Expected reloaded listen address, got %q", got)
	}
}

func TestMustGetConfig_Panics(t *testing.T) {
	resetSingleton()
	t.Cleanup(resetSingleton)

	defer func() {
		if recover() == nil {
			t.Error("Expected MustGetConfig to panic when uninitialized")
		}
	}()
	MustGetConfig()
}

func TestSetConfig(t *testing.T) {
	resetSingleton()
	t.Cleanup(resetSingleton)

	cfg := Default()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Error("Expected SetConfig to replace the global instance")
	}
}
