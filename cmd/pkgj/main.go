package main

import "github.com/AuthurNero/pkgj/cmd/pkgj/cmd"

func main() {
	cmd.Execute()
}
