package app

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"引数なしはserve", nil, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"大文字と空白は無視", []string{"  Worker "}, CommandWorker},
		{"未知のコマンドはserve", []string{"unknown"}, CommandServe},
		{"空文字はserve", []string{""}, CommandServe},
		{"後続の引数は無視", []string{"migrate", "--flag", "value"}, CommandMigrate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseCommand(tt.args); got != tt.want {
				t.Errorf("ParseCommand(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestCommand_Description(t *testing.T) {
	tests := []struct {
		cmd  Command
		want string
	}{
		{CommandServe, "task API server"},
		{CommandWorker, "session cleanup worker"},
		{CommandMigrate, "schema migration"},
		{CommandHealthcheck, "container healthcheck"},
	}

	for _, tt := range tests {
		if got := tt.cmd.Description(); got != tt.want {
			t.Errorf("%s.Description() = %q, want %q", tt.cmd, got, tt.want)
		}
	}
}
