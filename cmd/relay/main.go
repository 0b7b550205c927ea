package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	log.SetFlags(0)

	// Optional .env for local runs; real deployments set env directly.
	_ = godotenv.Load()

	cfg := &config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}
