package main

import (
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/cobra"
)

func TestBuildWebsocketURL(t *testing.T) {
	cases := []struct {
		addr, path, want string
	}{
		{"127.0.0.1:5000", "/join", "ws://127.0.0.1:5000/join"},
		{"[::]:5000", "ws", "ws://127.0.0.1:5000/ws"},
		{":5000", "", "ws://127.0.0.1:5000/join"},
	}
	for _, tc := range cases {
		if got := buildWebsocketURL(tc.addr, tc.path); got != tc.want {
			t.Errorf("buildWebsocketURL(%q, %q) = %q, want %q", tc.addr, tc.path, got, tc.want)
		}
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("LIVECHAT_ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	if got, want := envList("LIVECHAT_ALLOWED_ORIGINS"), []string{"https://a.example", "https://b.example"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("envList = %v, want %v", got, want)
	}
	t.Setenv("LIVECHAT_TOKEN_TTL", "not-a-duration")
	if got := envDuration("LIVECHAT_TOKEN_TTL", 42); got != 42 {
		t.Fatalf("envDuration fallback = %v", got)
	}
}

func TestClientCommandFlags(t *testing.T) {
	t.Setenv("LIVECHAT_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	cmd := newClientCmd()
	if err := cmd.ParseFlags([]string{"--server-url", "ws://example.com/join", "--peer", "bob"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !cmd.Flags().Changed("server-url") || cmd.Flags().Changed("room") {
		t.Fatalf("Changed should track explicit flags only")
	}

	root := newRootCmd()
	client, _, err := root.Find([]string{"client"})
	if err != nil || client.Name() != "client" {
		t.Fatalf("client command not registered: %v", err)
	}
	for _, name := range []string{"server", "local", "version"} {
		if sub, _, err := root.Find([]string{name}); err != nil || sub.Name() != name {
			t.Fatalf("%s command not registered: %v", name, err)
		}
	}
}

func TestClientConfigRoomArgument(t *testing.T) {
	t.Setenv("LIVECHAT_CONFIG", filepath.Join(t.TempDir(), "none.yaml"))
	var flags clientFlags
	cmd := &cobra.Command{Use: "client"}
	flags.register(cmd, true)
	flags.configPath = filepath.Join(t.TempDir(), "none.yaml")

	cfg, err := flags.config(cmd, []string{"lobby"})
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if cfg.Room != "lobby" || cfg.ServerURL == "" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	flags.peer = "bob"
	flags.room = "lobby"
	if _, err := flags.config(cmd, nil); err == nil {
		t.Fatalf("--peer and --room together should fail")
	}
}
