package main

import "github.com/K4mp47/poetry-cms/cmd"

func main() {
	cmd.Execute()
}
