package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html/charset"

	"github.com/Sriram-PR/crawl-scheduler/pkg/models"
	"github.com/Sriram-PR/crawl-scheduler/pkg/parse"
	"github.com/Sriram-PR/crawl-scheduler/pkg/utils"
)

const maxInputLine = 1 << 20

// loadRecords reads input records from inputPath, or from the links of the
// HTML document at htmlPath when that is set. "-" means stdin.
func loadRecords(inputPath, htmlPath, baseURL string, log *logrus.Entry) ([]models.URLRecord, error) {
	if htmlPath != "" {
		r, closeIn, err := openInput(htmlPath)
		if err != nil {
			return nil, err
		}
		defer closeIn()
		return recordsFromHTML(r, baseURL, log)
	}

	r, closeIn, err := openInput(inputPath)
	if err != nil {
		return nil, err
	}
	defer closeIn()
	return readRecords(r, log)
}

// readRecords parses one record per line: either a bare URL or a JSON object
// {"url": ..., "payload": {...}}. Blank lines and '#' comments are skipped.
// Bare URLs are not validated here.
func readRecords(r io.Reader, log *logrus.Entry) ([]models.URLRecord, error) {
	var records []models.URLRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxInputLine)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if line[0] != '{' {
			records = append(records, models.URLRecord{URL: string(line)})
			continue
		}

		var rec models.URLRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			wrapped := fmt.Errorf("%w: bad JSON record on line %d: %w", utils.ErrParsing, lineNo, err)
			log.WithField("error_category", utils.CategorizeError(wrapped)).Warn(wrapped)
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("%w: reading input: %w", utils.ErrFilesystem, err)
	}
	return records, nil
}

// recordsFromHTML turns the outlinks of an HTML document into input records.
// Documents in a legacy encoding are decoded to UTF-8 using their BOM or
// <meta charset> declaration.
func recordsFromHTML(r io.Reader, baseURL string, log *logrus.Entry) ([]models.URLRecord, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: -base is required with an HTML document", utils.ErrConfigValidation)
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base URL %q: %w", utils.ErrParsing, baseURL, err)
	}

	utf8Reader, err := charset.NewReader(r, "")
	if err != nil {
		return nil, fmt.Errorf("%w: detecting document encoding: %w", utils.ErrParsing, err)
	}

	links, err := parse.SimpleLinkExtractor{Log: log}.ExtractLinks(utf8Reader, base)
	if err != nil {
		return nil, err
	}

	records := make([]models.URLRecord, 0, len(links))
	for _, link := range links {
		payload := map[string]string{"source": base.String()}
		if link.AnchorText != "" {
			payload["anchor"] = link.AnchorText
		}
		if link.Rel != "" {
			payload["rel"] = link.Rel
		}
		records = append(records, models.URLRecord{URL: link.URL, Payload: payload})
	}
	log.Debugf("Extracted %d links from %s", len(records), base)
	return records, nil
}

// writeRecords writes records as JSON lines
func writeRecords(w io.Writer, records []models.URLRecord) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("%w: writing record %q: %w", utils.ErrFilesystem, rec.URL, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%w: flushing records: %w", utils.ErrFilesystem, err)
	}
	return nil
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open input %q: %w", utils.ErrFilesystem, path, err)
	}
	return f, func() { f.Close() }, nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}
	if strings.HasSuffix(path, string(os.PathSeparator)) {
		return nil, nil, fmt.Errorf("%w: output %q is a directory", utils.ErrFilesystem, path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: create output %q: %w", utils.ErrFilesystem, path, err)
	}
	return f, func() { f.Close() }, nil
}
