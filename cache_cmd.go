package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/readalong/readalong/internal/config"
	"github.com/readalong/readalong/tts/align"
)

var clearAll bool

var cacheCmd = &cobra.Command{
	Use:     "cache clear [DOCUMENT-ID]",
	Short:   "Clear cached word alignments",
	Example: "readalong cache clear --all\nreadalong cache clear 6ba7b810-9dad-11d1-80b4-00c04fd430c8",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(_ *cobra.Command, args []string) error {
		if args[0] != "clear" {
			return fmt.Errorf("unknown cache command %q", args[0])
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cache, err := align.NewDiskCache(cfg.CacheDir)
		if err != nil {
			return err
		}

		switch {
		case clearAll:
			if err := cache.ClearAll(); err != nil {
				return err
			}
			fmt.Println("Cleared all cached alignments.")
		case len(args) == 2:
			if err := cache.Clear(args[1]); err != nil {
				return err
			}
			fmt.Println("Cleared cached alignments for:", args[1])
		default:
			return fmt.Errorf("pass a document ID or --all")
		}
		return nil
	},
}

func init() {
	cacheCmd.Flags().BoolVar(&clearAll, "all", false, "clear every document's cached alignments")
}
