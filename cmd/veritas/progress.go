package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
)

// embedBar tracks chunks embedded for one document. The total is unknown
// until the first batch reports it.
func embedBar(filename string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(color.BlueString("embedding %s", filename)),
		progressbar.OptionSetItsString("chunks"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)
}

// fetchSpinner counts pages while a crawl runs.
type fetchSpinner struct {
	bar   *progressbar.ProgressBar
	url   string
	pages int
}

func newFetchSpinner(url string) *fetchSpinner {
	return &fetchSpinner{
		url: url,
		bar: progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(color.CyanString("fetching %s", url)),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionClearOnFinish(),
		),
	}
}

// Page is the crawler's progress callback.
func (s *fetchSpinner) Page(pageURL string) {
	s.pages++
	s.bar.Describe(color.CyanString("fetching %s (%d pages, last %s)", s.url, s.pages, pageURL))
	_ = s.bar.Add(1)
}

func (s *fetchSpinner) Finish() string {
	_ = s.bar.Finish()
	return fmt.Sprintf("fetched %d pages from %s", s.pages, s.url)
}
