package app

import "strings"

// Command はtaskmanバイナリの起動モード。
// 1つのイメージをdocker-composeのcommandで切り替えて使う。
type Command string

const (
	// CommandServe はタスク管理APIを提供する。引数なしの場合もこのモード。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションを定期的に削除する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新版まで適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの/healthを叩いて終了コードで結果を返す。
	// シェルを持たないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// Description はログ出力用のモードの説明を返す。
func (c Command) Description() string {
	switch c {
	case CommandWorker:
		return "session cleanup worker"
	case CommandMigrate:
		return "schema migration"
	case CommandHealthcheck:
		return "container healthcheck"
	default:
		return "task API server"
	}
}

// ParseCommand は先頭の引数から起動モードを決める。
// 大文字小文字と前後の空白は無視する。未知の値や引数なしはCommandServe。
// 2つ目以降の引数は使わない。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[strings.ToLower(strings.TrimSpace(args[0]))]; ok {
		return cmd
	}
	return CommandServe
}
