// famledger はAPIサーバー・ワーカー・マイグレーションを1バイナリで提供する。
//
// 使い方:
//
//	famledger [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/famledger/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "famledger: %v\n", err)
		os.Exit(1)
	}
}
