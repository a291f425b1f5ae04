package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aihub/policyqa-go/internal/bootstrap"
	"github.com/aihub/policyqa-go/internal/logger"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env不存在时静默跳过，环境变量仍然生效
	_ = godotenv.Load()

	docURL := flag.String("doc", "", "policy document URL (PDF, DOCX or EML)")
	clear := flag.Bool("clear", false, "clear the index for -doc, or all indexes when -doc is empty")
	stats := flag.Bool("stats", false, "print pipeline statistics and exit")
	flag.Parse()

	app, err := bootstrap.NewApp()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	ctx := context.Background()

	switch {
	case *stats:
		printJSON(app.Orchestrator.Stats(ctx))

	case *clear:
		if err := app.Orchestrator.Clear(ctx, *docURL); err != nil {
			logger.Fatal("clear failed", zap.Error(err))
		}
		fmt.Println("index cleared")

	default:
		questions := flag.Args()
		if *docURL == "" || len(questions) == 0 {
			fmt.Fprintln(os.Stderr, "usage: policyqa -doc <url> \"question 1\" [\"question 2\" ...]")
			fmt.Fprintln(os.Stderr, "       policyqa -stats")
			fmt.Fprintln(os.Stderr, "       policyqa -clear [-doc <url>]")
			os.Exit(2)
		}

		answers, err := app.Orchestrator.Run(ctx, *docURL, questions)
		if err != nil {
			logger.Fatal("question batch failed", zap.Error(err))
		}
		printJSON(struct {
			Answers []string `json:"answers"`
		}{Answers: answers})
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode output: %v", err)
	}
	fmt.Println(string(out))
}
