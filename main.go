package main

import "github.com/jbohanon/aws-sts-fetch/cmd"

func main() {
	cmd.Execute()
}
