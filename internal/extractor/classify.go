package extractor

import (
	"strings"

	"github.com/iconidentify/shadowgate/internal/domain"
	"github.com/iconidentify/shadowgate/internal/ytdlp"
)

var imageExts = map[string]bool{
	"jpg":  true,
	"jpeg": true,
	"png":  true,
	"webp": true,
}

// Classify turns a yt-dlp metadata tree into a descriptor.
//
// Video wins when any format or entry declares a real video codec, or when
// a duration is present. Otherwise image URLs are collected from entries,
// then the top-level URL, then thumbnails; the first non-empty tier wins.
func Classify(info *ytdlp.Info) (*domain.Descriptor, error) {
	if isVideoBearing(info) {
		desc := &domain.Descriptor{
			Kind:      domain.KindVideo,
			Title:     info.Title,
			Duration:  int(info.Duration),
			Extractor: info.ExtractorKey,
		}
		for _, f := range info.Formats {
			if f.VCodec == "" || f.VCodec == "none" || f.URL == "" {
				continue
			}
			desc.Sources = append(desc.Sources, domain.Source{
				URL:        f.URL,
				Width:      f.Width,
				Height:     f.Height,
				Size:       f.SizeHint(),
				VideoCodec: f.VCodec,
				Ext:        f.Ext,
			})
		}
		return desc, nil
	}

	images := imageURLs(info)
	if len(images) == 0 {
		return nil, domain.ErrNoMedia
	}
	return &domain.Descriptor{
		Kind:      domain.KindPhoto,
		Title:     info.Title,
		Images:    images,
		Extractor: info.ExtractorKey,
	}, nil
}

func isVideoBearing(info *ytdlp.Info) bool {
	if info.Duration > 0 {
		return true
	}
	if info.VCodec != "" && info.VCodec != "none" {
		return true
	}
	for _, f := range info.Formats {
		if f.VCodec != "" && f.VCodec != "none" {
			return true
		}
	}
	for _, e := range info.Entries {
		if e.Duration > 0 || (e.VCodec != "" && e.VCodec != "none") {
			return true
		}
		for _, f := range e.Formats {
			if f.VCodec != "" && f.VCodec != "none" {
				return true
			}
		}
	}
	return false
}

// imageURLs collects photo candidates by tier: entries with image
// extensions, a single top-level image, thumbnails. Stops at the first
// non-empty tier.
func imageURLs(info *ytdlp.Info) []string {
	var images []string
	for _, e := range info.Entries {
		if e.URL != "" && imageExts[strings.ToLower(e.Ext)] {
			images = append(images, e.URL)
		}
	}
	if len(images) > 0 {
		return images
	}

	if info.URL != "" && imageExts[strings.ToLower(info.Ext)] {
		return []string{info.URL}
	}

	for _, t := range info.Thumbnails {
		if t.URL != "" {
			images = append(images, t.URL)
		}
	}
	return images
}
