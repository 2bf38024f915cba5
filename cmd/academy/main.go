// Command academy はコースプラットフォームの認証・セッションAPIサーバーを起動する。
//
// 使い方:
//
//	academy [serve|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/waterballsa/academy/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "academy: %v\n", err)
		os.Exit(1)
	}
}
