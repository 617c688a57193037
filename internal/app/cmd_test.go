package app

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", []string{}, CommandServe},
		{"nilはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"後続の引数は無視", []string{"worker", "--flag", "value"}, CommandWorker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestParseCommand_Unknown(t *testing.T) {
	_, err := ParseCommand([]string{"serv"})
	if err == nil {
		t.Fatal("ParseCommand should reject unknown commands")
	}
	if !strings.Contains(err.Error(), "serve, worker, migrate, healthcheck") {
		t.Errorf("error should list known commands, got %v", err)
	}
}

func TestRun_UnknownCommand_FailsBeforeInit(t *testing.T) {
	for _, key := range requiredEnvKeys {
		t.Setenv(key, "")
	}

	var buf bytes.Buffer
	err := Run(&buf, []string{"bogus"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("Run(bogus) error = %v, want unknown command", err)
	}
}
