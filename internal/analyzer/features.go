package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// inlineScriptPreviewLen bounds how much of an inline script body is
// retained per script; enough for substring heuristics without keeping
// whole bundles in memory.
const inlineScriptPreviewLen = 100

// PageFeatures are the script and iframe observations read back from the
// settled document.
type PageFeatures struct {
	Scripts []string
	Iframes []string
}

// ExtractPageFeatures parses the settled document markup and collects
// script sources (or inline previews) and iframe sources.
func ExtractPageFeatures(html string) (PageFeatures, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageFeatures{}, fmt.Errorf("analyzer: parsing document: %w", err)
	}

	var feats PageFeatures
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok && src != "" {
			feats.Scripts = append(feats.Scripts, src)
			return
		}
		body := s.Text()
		if len(body) > inlineScriptPreviewLen {
			body = body[:inlineScriptPreviewLen]
		}
		feats.Scripts = append(feats.Scripts, body)
	})
	doc.Find("iframe").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		feats.Iframes = append(feats.Iframes, src)
	})
	return feats, nil
}

// ContentHash returns the sha256 hex digest of the settled document.
func ContentHash(html string) string {
	sum := sha256.Sum256([]byte(html))
	return hex.EncodeToString(sum[:])
}
