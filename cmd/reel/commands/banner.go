package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/reel/am"
	"github.com/teranos/reel/sym"
	"github.com/teranos/reel/version"
)

// printStartupBanner prints what the server is about to run with
func printStartupBanner(cfg *am.Config, a *app) {
	info := version.Get()

	_ = pterm.DefaultBigText.WithLetters(pterm.NewLettersFromString("reel")).Render()

	dbPath := cfg.Database.Path
	if serverDBPath != "" {
		dbPath = serverDBPath
	}
	if dbPath == "" {
		dbPath = "(memory only, parked jobs are lost on restart)"
	}
	direct := strings.Join(cfg.Oracle.DirectModels, ", ")
	if direct == "" {
		direct = "(none)"
	}

	data := pterm.TableData{
		{"Version", fmt.Sprintf("%s (commit %s)", info.Tag(), info.Short())},
		{"Listen", fmt.Sprintf(":%d", cfg.Server.Port)},
		{"Database", dbPath},
		{"Storage", cfg.Storage.Backend},
		{sym.Pulse + " Workers", fmt.Sprintf("%d", cfg.Pulse.Workers)},
		{sym.Media + " ffmpeg", a.version},
		{sym.Oracle + " Analysis", cfg.Oracle.AnalysisProvider},
		{sym.Oracle + " Embedding", cfg.Oracle.EmbeddingProvider},
		{sym.Oracle + " Direct", direct},
	}
	_ = pterm.DefaultTable.WithData(data).Render()
	pterm.Info.Println("Press Ctrl+C to stop")
}
