// internal/chatsync/markup.go

package chatsync

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/imadgeboyega/kiekky-chat/internal/messaging"
)

// DeletedPlaceholder replaces the content of a tombstoned message.
const DeletedPlaceholder = "This message was deleted"

// SegmentKind classifies a run of message content.
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentBold      SegmentKind = "bold"
	SegmentItalic    SegmentKind = "italic"
	SegmentCode      SegmentKind = "code"
	SegmentCodeBlock SegmentKind = "code_block"
	SegmentLink      SegmentKind = "link"
)

// Segment is one run of content with its markup removed.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text"`
	// Lang is the info string of a fenced code block, if any.
	Lang string `json:"lang,omitempty"`
}

var markupParser = goldmark.New(goldmark.WithExtensions(extension.Linkify)).Parser()

// DisplayContent returns what should be shown for a message. Tombstones
// never expose their content.
func DisplayContent(msg *messaging.Message) string {
	if msg == nil {
		return ""
	}
	if msg.IsDeleted() {
		return DeletedPlaceholder
	}
	return msg.Content
}

// ParseMarkup splits content into segments for **bold**, *italic*,
// `code`, fenced code blocks and bare http(s) URLs. Everything else,
// unmatched markers and other markdown included, stays text as typed.
func ParseMarkup(content string) []Segment {
	w := &markupWalker{src: []byte(content)}
	doc := markupParser.Parse(text.NewReader(w.src))
	_ = ast.Walk(doc, w.visit)
	w.out = appendText(w.out, content[w.emitted:])
	return w.out
}

// markupWalker turns recognised nodes into segments and copies the source
// between them verbatim. floor is the lowest offset a later node can start at.
type markupWalker struct {
	src     []byte
	out     []Segment
	emitted int
	floor   int
}

func (w *markupWalker) visit(n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	switch n := n.(type) {
	case *ast.Text:
		if n.Segment.Stop > w.floor {
			w.floor = n.Segment.Stop
		}
		return ast.WalkContinue, nil

	case *ast.FencedCodeBlock:
		start, end, ok := w.fenceBounds(n)
		if ok {
			w.add(start, end, Segment{
				Kind: SegmentCodeBlock,
				Lang: string(n.Language(w.src)),
				Text: strings.TrimSuffix(codeBlockText(n, w.src), "\n"),
			})
		}
		return ast.WalkSkipChildren, nil

	case *ast.Emphasis:
		kind := SegmentItalic
		if n.Level >= 2 {
			kind = SegmentBold
		}
		w.addInline(n, kind)
		return ast.WalkSkipChildren, nil

	case *ast.CodeSpan:
		w.addInline(n, SegmentCode)
		return ast.WalkSkipChildren, nil

	case *ast.AutoLink:
		if isWebLink(n, w.src) {
			w.addInline(n, SegmentLink)
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (w *markupWalker) addInline(n ast.Node, kind SegmentKind) {
	start, end, ok := w.bounds(n)
	if !ok {
		return
	}
	var b strings.Builder
	if link, isLink := n.(*ast.AutoLink); isLink {
		b.WriteString(linkLabel(link, w.src))
	} else {
		w.plain(n, &b)
	}
	w.add(start, end, Segment{Kind: kind, Text: b.String()})
}

// add emits the source up to start as text, then seg covering [start,end).
func (w *markupWalker) add(start, end int, seg Segment) {
	if start < w.emitted || end > len(w.src) || start >= end {
		return
	}
	w.out = appendText(w.out, string(w.src[w.emitted:start]))
	w.out = append(w.out, seg)
	w.emitted = end
	if end > w.floor {
		w.floor = end
	}
}

// bounds returns the source range of an inline node, delimiters included.
func (w *markupWalker) bounds(n ast.Node) (int, int, bool) {
	switch n := n.(type) {
	case *ast.Text:
		return n.Segment.Start, n.Segment.Stop, true

	case *ast.Emphasis:
		first, last := n.FirstChild(), n.LastChild()
		if first == nil {
			return 0, 0, false
		}
		start, _, ok := w.bounds(first)
		if !ok {
			return 0, 0, false
		}
		_, end, ok := w.bounds(last)
		if !ok {
			return 0, 0, false
		}
		return start - n.Level, end + n.Level, true

	case *ast.CodeSpan:
		return w.codeSpanBounds(n)

	case *ast.AutoLink:
		label := linkLabel(n, w.src)
		i := strings.Index(string(w.src[w.floor:]), label)
		if label == "" || i < 0 {
			return 0, 0, false
		}
		start := w.floor + i
		return start, start + len(label), true
	}
	return 0, 0, false
}

// codeSpanBounds widens the content range of a code span over its
// backtick runs and the single padding space CommonMark strips.
func (w *markupWalker) codeSpanBounds(n *ast.CodeSpan) (int, int, bool) {
	start, end := -1, -1
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		t, ok := c.(*ast.Text)
		if !ok {
			continue
		}
		if start < 0 {
			start = t.Segment.Start
		}
		end = t.Segment.Stop
	}
	if start < 0 {
		return 0, 0, false
	}

	src := w.src
	if start >= 2 && src[start-1] == ' ' && src[start-2] == '`' {
		start--
	}
	ticks := 0
	for start > 0 && src[start-1] == '`' {
		start--
		ticks++
	}
	if end+1 < len(src) && src[end] == ' ' && src[end+1] == '`' {
		end++
	}
	for i := 0; i < ticks && end < len(src) && src[end] == '`'; i++ {
		end++
	}
	return start, end, ticks > 0
}

// fenceBounds finds the opening and closing fence lines of a code block.
// An unclosed block runs to the end of the content.
func (w *markupWalker) fenceBounds(n *ast.FencedCodeBlock) (int, int, bool) {
	src := string(w.src)
	open := -1
	for _, fence := range []string{"```", "~~~"} {
		if i := strings.Index(src[w.floor:], fence); i >= 0 && (open < 0 || w.floor+i < open) {
			open = w.floor + i
		}
	}
	if open < 0 {
		return 0, 0, false
	}

	ch := src[open]
	run := 0
	for open+run < len(src) && src[open+run] == ch {
		run++
	}

	after := open + run
	if lines := n.Lines(); lines.Len() > 0 {
		after = lines.At(lines.Len() - 1).Stop
	} else if nl := strings.IndexByte(src[after:], '\n'); nl >= 0 {
		after += nl + 1
	} else {
		return open, len(src), true
	}

	closing := strings.Index(src[after:], strings.Repeat(string(ch), run))
	if closing < 0 {
		return open, len(src), true
	}
	end := after + closing
	for end < len(src) && src[end] == ch {
		end++
	}
	return open, end, true
}

func codeBlockText(n *ast.FencedCodeBlock, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

// plain collects the visible text under n.
func (w *markupWalker) plain(n ast.Node, b *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(w.src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.WriteString(linkLabel(c, w.src))
		default:
			w.plain(c, b)
		}
	}
}

// linkLabel is the URL as typed, without trailing sentence punctuation.
func linkLabel(n *ast.AutoLink, src []byte) string {
	return strings.TrimRight(string(n.Label(src)), ".,:;!?*_~")
}

func isWebLink(n *ast.AutoLink, src []byte) bool {
	if n.AutoLinkType != ast.AutoLinkURL {
		return false
	}
	label := linkLabel(n, src)
	return strings.HasPrefix(label, "http://") || strings.HasPrefix(label, "https://")
}

// appendText merges adjacent plain runs.
func appendText(out []Segment, s string) []Segment {
	if s == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Kind == SegmentText {
		out[n-1].Text += s
		return out
	}
	return append(out, Segment{Kind: SegmentText, Text: s})
}

// ExtractURLs returns the distinct links in content in order of first
// appearance, ignoring those inside code.
func ExtractURLs(content string) []string {
	var urls []string
	seen := make(map[string]struct{})
	for _, seg := range ParseMarkup(content) {
		if seg.Kind != SegmentLink {
			continue
		}
		if _, ok := seen[seg.Text]; ok {
			continue
		}
		seen[seg.Text] = struct{}{}
		urls = append(urls, seg.Text)
	}
	return urls
}
