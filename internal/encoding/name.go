// Copyright ©2022 Evolution. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package encoding

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/evolution-gaming/siti/internal/video"
)

var (
	resolutionToken = regexp.MustCompile(`^(\d+)p$`)
	qpToken         = regexp.MustCompile(`^qp(\d+)$`)
)

// UnparsableFilenameError is returned when encoding parameters can not be
// recovered from a file name.
type UnparsableFilenameError struct {
	Name   string
	Reason string
}

func (e *UnparsableFilenameError) Error() string {
	return fmt.Sprintf("unparsable encoded file name %q: %s", e.Name, e.Reason)
}

// EncodedName describes encoding parameters carried in encoded file name:
//
//	<source>_<codec>_<height>p_qp<qp>[_<suffix>]<ext>
type EncodedName struct {
	// Source file name stem
	Source string
	Codec  string
	Height int
	QP     int
	// Optional trailing part, e.g. "upscaled_4k"
	Suffix string
	// Extension including the dot
	Ext string
}

func (n EncodedName) String() string {
	s := fmt.Sprintf("%s_%s_%s_qp%d", n.Source, n.Codec, n.Resolution(), n.QP)
	if n.Suffix != "" {
		s += "_" + n.Suffix
	}
	return s + n.Ext
}

// Resolution returns height as "<height>p".
func (n EncodedName) Resolution() string {
	return fmt.Sprintf("%dp", n.Height)
}

// WithSuffix returns copy of n with given suffix and extension.
func (n EncodedName) WithSuffix(suffix, ext string) EncodedName {
	n.Suffix = suffix
	n.Ext = ext
	return n
}

// ParseEncodedName recovers encoding parameters from file name.
//
// The right-most "<digits>p" token directly followed by "qp<digits>" token is
// used, so source names may contain underscores and resolution-like tokens.
func ParseEncodedName(file string) (EncodedName, error) {
	base := filepath.Base(file)
	ext := filepath.Ext(base)
	tokens := strings.Split(strings.TrimSuffix(base, ext), "_")

	for i := len(tokens) - 2; i >= 0; i-- {
		rm := resolutionToken.FindStringSubmatch(tokens[i])
		qm := qpToken.FindStringSubmatch(tokens[i+1])
		if rm == nil || qm == nil {
			continue
		}
		if i < 2 {
			return EncodedName{}, &UnparsableFilenameError{
				Name: base, Reason: "missing source or codec before resolution",
			}
		}
		height, err := strconv.Atoi(rm[1])
		if err != nil || height == 0 {
			return EncodedName{}, &UnparsableFilenameError{Name: base, Reason: "invalid resolution " + tokens[i]}
		}
		qp, err := strconv.Atoi(qm[1])
		if err != nil {
			return EncodedName{}, &UnparsableFilenameError{Name: base, Reason: "invalid QP " + tokens[i+1]}
		}
		n := EncodedName{
			Source: strings.Join(tokens[:i-1], "_"),
			Codec:  tokens[i-1],
			Height: height,
			QP:     qp,
			Suffix: strings.Join(tokens[i+2:], "_"),
			Ext:    ext,
		}
		if n.Source == "" || n.Codec == "" {
			return EncodedName{}, &UnparsableFilenameError{Name: base, Reason: "empty source or codec"}
		}
		return n, nil
	}

	return EncodedName{}, &UnparsableFilenameError{
		Name: base, Reason: `no "<height>p_qp<N>" tokens found`,
	}
}

// FindSource returns the reference file whose stem matches n.Source, compared
// case-insensitively.
func FindSource(n EncodedName, refs []string) (string, bool) {
	for _, ref := range refs {
		if strings.EqualFold(normalize(video.Stem(ref)), n.Source) {
			return ref, true
		}
	}
	return "", false
}
