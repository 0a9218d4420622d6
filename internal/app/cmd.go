package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はトークン交換APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンのクリーンアップを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はusers、tokensテーブルのマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commandSpec はサブコマンドごとの性質。
type commandSpec struct {
	description string
	// needsConfig がfalseのコマンドはDB設定の読み込みを行わない
	needsConfig bool
}

var commands = map[Command]commandSpec{
	CommandServe:       {description: "token exchange API server", needsConfig: true},
	CommandWorker:      {description: "expired token cleanup worker", needsConfig: true},
	CommandMigrate:     {description: "apply database migrations", needsConfig: true},
	CommandHealthcheck: {description: "probe /health of a running server", needsConfig: false},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 大文字小文字と前後の空白は無視する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	cmd := Command(strings.ToLower(strings.TrimSpace(args[0])))
	if _, ok := commands[cmd]; !ok {
		return CommandServe
	}
	return cmd
}

// NeedsConfig はコマンドの実行に環境変数の設定読み込みが必要かを返す。
func (c Command) NeedsConfig() bool {
	spec, ok := commands[c]
	return !ok || spec.needsConfig
}

// Description はコマンドの説明を返す。
func (c Command) Description() string {
	return commands[c].description
}

// String はコマンド名を返す。
func (c Command) String() string {
	return string(c)
}
