package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/bluekeyes/go-gitdiff/gitdiff"
)

// diffFile is a single file of the change under review with its parsed
// fragments.
type diffFile struct {
	OldName      string
	NewName      string
	IsNew        bool
	IsDeleted    bool
	IsRenamed    bool
	IsBinary     bool
	Fragments    []*gitdiff.TextFragment
	AddedLines   int
	DeletedLines int
}

// Name returns the display name for the file.
func (f *diffFile) Name() string {
	if f.IsRenamed {
		return fmt.Sprintf("%s → %s", f.OldName, f.NewName)
	}
	if f.IsNew {
		return f.NewName
	}
	if f.IsDeleted {
		return f.OldName
	}
	if f.NewName != "" {
		return f.NewName
	}
	return f.OldName
}

// parseDiff reads a unified diff string into per-file structures.
func parseDiff(raw string) ([]*diffFile, error) {
	parsed, _, err := gitdiff.Parse(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing diff: %w", err)
	}

	var files []*diffFile
	for _, f := range parsed {
		df := &diffFile{
			OldName:   f.OldName,
			NewName:   f.NewName,
			IsNew:     f.IsNew,
			IsDeleted: f.IsDelete,
			IsRenamed: f.IsRename,
			IsBinary:  f.IsBinary,
		}

		for _, frag := range f.TextFragments {
			df.Fragments = append(df.Fragments, frag)
			for _, line := range frag.Lines {
				switch line.Op {
				case gitdiff.OpAdd:
					df.AddedLines++
				case gitdiff.OpDelete:
					df.DeletedLines++
				}
			}
		}

		files = append(files, df)
	}

	return files, nil
}

func diffStats(files []*diffFile) (count, added, deleted int) {
	count = len(files)
	for _, f := range files {
		added += f.AddedLines
		deleted += f.DeletedLines
	}
	return
}

// token is a syntax-highlighted chunk of text.
type token struct {
	Text  string
	Color string // ANSI color string, empty for default
}

// highlightedLine is one source line split into colored tokens.
type highlightedLine struct {
	Tokens []token
}

// highlightLines applies syntax highlighting to source lines for a given
// filename. Returns one highlightedLine per input line.
func highlightLines(filename string, lines []string) []highlightedLine {
	lexer := lexerForFile(filename)
	if lexer == nil {
		return plainLines(lines)
	}

	source := strings.Join(lines, "\n")
	iterator, err := lexer.Tokenise(nil, source)
	if err != nil {
		return plainLines(lines)
	}

	style := chromastyles.Get("dracula")
	if style == nil {
		style = chromastyles.Fallback
	}

	result := make([]highlightedLine, 0, len(lines))
	current := highlightedLine{}

	for _, tok := range iterator.Tokens() {
		// Split tokens that span multiple lines.
		parts := strings.Split(tok.Value, "\n")
		for i, part := range parts {
			if i > 0 {
				result = append(result, current)
				current = highlightedLine{}
			}
			if part != "" {
				current.Tokens = append(current.Tokens, token{
					Text:  part,
					Color: tokenColor(style, tok.Type),
				})
			}
		}
	}
	result = append(result, current)

	for len(result) < len(lines) {
		result = append(result, highlightedLine{Tokens: []token{{Text: ""}}})
	}

	return result
}

func plainLines(lines []string) []highlightedLine {
	result := make([]highlightedLine, len(lines))
	for i, line := range lines {
		result[i] = highlightedLine{Tokens: []token{{Text: line}}}
	}
	return result
}

func lexerForFile(filename string) chroma.Lexer {
	lexer := lexers.Match(filename)
	if lexer == nil {
		ext := filepath.Ext(filename)
		if ext != "" {
			lexer = lexers.Match("file" + ext)
		}
	}
	if lexer != nil {
		lexer = chroma.Coalesce(lexer)
	}
	return lexer
}

func tokenColor(style *chroma.Style, tt chroma.TokenType) string {
	entry := style.Get(tt)
	if entry.Colour.IsSet() {
		return entry.Colour.String()
	}
	return ""
}
