package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"esmloader/internal/dom"
	"esmloader/internal/manifest"
	"esmloader/internal/pipeline"
)

var (
	loadingMapManifest   string
	loadingMapPage       string
	loadingMapEmbed      bool
	loadingMapPublicPath string
	loadingMapOut        string
)

var loadingMapCmd = &cobra.Command{
	Use:   "loading-map",
	Short: "Derive the runtime loading map from a manifest",
	Long: `Reshape the manifest into the per-trigger selector lookup the runtime
dispatcher reads.

With --page, onClick, onFocusIn and onIntersection selectors that match no
element of the page are dropped. onInjection and onComplete entries are
always kept. Click and focusin are delegated, so a module bound to an
element that only arrives later (injected markup) is dropped too: leave out
--page for pages that inject such elements.

With --embed the map is written into the page as
<script type="application/json" id="esm-loading-map"> and the page is
printed instead. --out may name the page itself; it is replaced atomically.

Examples:
  esmloader loading-map
  esmloader loading-map --page index.html --embed --out dist/index.html`,
	RunE: runLoadingMap,
}

func init() {
	loadingMapCmd.Flags().StringVar(&loadingMapManifest, "manifest", "", "Manifest to read (default: the last build's)")
	loadingMapCmd.Flags().StringVar(&loadingMapPage, "page", "", "HTML page to filter against")
	loadingMapCmd.Flags().BoolVar(&loadingMapEmbed, "embed", false, "Embed the map into --page and print the page")
	loadingMapCmd.Flags().StringVar(&loadingMapPublicPath, "public-path", "", "URL prefix for import keys (default from config)")
	loadingMapCmd.Flags().StringVarP(&loadingMapOut, "out", "o", "", "Write to file instead of stdout")
	rootCmd.AddCommand(loadingMapCmd)
}

func runLoadingMap(cmd *cobra.Command, args []string) error {
	if loadingMapEmbed && loadingMapPage == "" {
		return fmt.Errorf("--embed requires --page")
	}

	proj, err := loadProject()
	if err != nil {
		return err
	}
	defer proj.Close()

	var m manifest.Manifest
	if loadingMapManifest != "" {
		m, err = manifest.Read(loadingMapManifest)
	} else {
		var p *pipeline.Pipeline
		if p, err = pipeline.New(rootDir, proj.cfg, proj.logger); err == nil {
			m, err = p.ReadManifest()
		}
	}
	if err != nil {
		return err
	}

	publicPath := proj.cfg.PublicPath
	if cmd.Flags().Changed("public-path") {
		publicPath = loadingMapPublicPath
	}
	lm, err := manifest.LoadingMapFromManifest(m, publicPath)
	if err != nil {
		return err
	}

	// The page is read in full before anything is written so --out may name
	// the page itself.
	var buf bytes.Buffer
	if loadingMapPage == "" {
		if err := writeJSON(&buf, lm); err != nil {
			return err
		}
		return emit(buf.Bytes())
	}

	page, err := os.ReadFile(loadingMapPage)
	if err != nil {
		return err
	}
	doc, err := dom.Parse(bytes.NewReader(page))
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", loadingMapPage, err)
	}

	lm = doc.FilterLoadingMap(lm)
	if !loadingMapEmbed {
		if err := writeJSON(&buf, lm); err != nil {
			return err
		}
		return emit(buf.Bytes())
	}
	if err := doc.EmbedLoadingMap(lm); err != nil {
		return err
	}
	if err := doc.Render(&buf); err != nil {
		return err
	}
	if err := emit(buf.Bytes()); err != nil {
		return err
	}
	proj.logger.Info("Embedded loading map", "page", loadingMapPage, "out", loadingMapOut)
	return nil
}

// emit writes data to --out, replacing the file atomically, or to stdout.
func emit(data []byte) error {
	if loadingMapOut == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	tmp := loadingMapOut + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, loadingMapOut); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
