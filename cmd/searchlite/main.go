// Command searchlite builds and queries a persisted inverted index.
//
// Building reads newline-delimited JSON documents from stdin:
//
//	searchlite build idx < docs.ndjson
//
// Querying reads tab-separated command lines from stdin and prints one
// integer per line:
//
//	printf 'COUNT\tsan francisco\n' | searchlite query idx
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stn/searchlite/engine"
)

type document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func main() {
	root := &cobra.Command{
		Use:           "searchlite",
		Short:         "A lightweight full-text inverted-index engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildCommand(), queryCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build <idx_dir>",
		Short: "Read NDJSON {id, text} documents from stdin and write the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := engine.New(args[0], engine.DefaultConfig())
			if err != nil {
				return err
			}
			defer eng.Close()

			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
			line := 0
			for sc.Scan() {
				line++
				var doc document
				if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
					return fmt.Errorf("stdin line %d: %w", line, err)
				}
				if err := eng.Index(doc.ID, doc.Text); err != nil {
					return err
				}
			}
			if err := sc.Err(); err != nil {
				return err
			}
			return eng.Save()
		},
	}
}

func queryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "query <idx_dir>",
		Short: "Answer COMMAND\\tquery lines from stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng := engine.Open(args[0], engine.DefaultConfig())
			if err := eng.Restore(); err != nil {
				return err
			}
			defer eng.Close()

			out := bufio.NewWriter(os.Stdout)
			defer out.Flush()

			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				command, query, ok := strings.Cut(sc.Text(), "\t")
				if !ok {
					slog.Warn("malformed query line", slog.String("line", sc.Text()))
					continue
				}
				var n int
				switch command {
				case "COUNT":
					count, err := eng.Count(query)
					if err != nil {
						return err
					}
					n = count
				case "TOP_10":
					if _, err := eng.Search(query); err != nil {
						return err
					}
					n = 1
				case "TOP_10_COUNT":
					names, err := eng.Search(query)
					if err != nil {
						return err
					}
					n = len(names)
				default:
					fmt.Fprintln(os.Stderr, "UNSUPPORTED")
					n = 0
				}
				fmt.Fprintln(out, n)
				if err := out.Flush(); err != nil {
					return err
				}
			}
			return sc.Err()
		},
	}
}
