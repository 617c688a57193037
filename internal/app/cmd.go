package app

import (
	"fmt"
	"strings"
)

// Command はfamledgerバイナリのサブコマンド。
type Command string

const (
	// CommandServe はHTTP APIを提供する。引数なしの既定値。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションの定期削除を行う。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルの /health を叩いて終了する。
	// シェルのないdistrolessイメージのHEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

var knownCommands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数が空ならCommandServeを返し、未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	for _, c := range knownCommands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (want one of %s)", args[0], commandList())
}

func commandList() string {
	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
