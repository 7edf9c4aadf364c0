package main

import "github.com/laniot/laniot-signer/pkg/cmd"

func main() {
	cmd.Execute()
}
