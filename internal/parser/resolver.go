package parser

import (
	"fmt"

	"github.com/midi-sniffer/backend/internal/models"
)

// candidate is a functional row admitted to index building.
type candidate struct {
	line        int
	fm          *models.FunctionalMapping
	placeholder bool
}

type owner struct {
	mapping *models.ResolvedMapping
	line    int
}

type resolver struct {
	ix     *Index
	owners map[models.MessageKey]owner
	diags  []models.Diagnostic
}

// BuildIndex expands classified rows into a lookup index. Rows are taken in
// order, followed by the profile's extra mappings and then the device family's
// built-in controls for keys still unmapped.
func BuildIndex(rows []models.ClassifiedRow, device string, profile *Profile) (*Index, []models.Diagnostic) {
	if profile == nil {
		profile = DefaultProfile()
	}

	r := &resolver{
		ix: &Index{
			entries: make(map[models.MessageKey]*models.ResolvedMapping),
			paired:  profile.PairedTypes(),
		},
		owners: make(map[models.MessageKey]owner),
	}

	var cands []candidate
	for _, row := range rows {
		switch row.Kind {
		case models.RowFunctional:
			cands = append(cands, candidate{line: row.Line, fm: row.Functional})
		case models.RowPlaceholder:
			if profile.PromotePlaceholders && row.Placeholder.Mapping != nil {
				cands = append(cands, candidate{line: row.Line, fm: row.Placeholder.Mapping, placeholder: true})
				r.note(row.Line, models.DiagPlaceholder, row.Placeholder.RawName, "placeholder promoted into lookup")
			}
		}
	}

	extras := NewClassifier()
	for i, em := range profile.ExtraMappings {
		row, diags := extras.Classify(0, em.record())
		r.diags = append(r.diags, diags...)
		if row.Kind != models.RowFunctional {
			r.note(0, models.DiagMalformedRow, em.Function, fmt.Sprintf("profile extra mapping %d skipped", i+1))
			continue
		}
		cands = append(cands, candidate{line: 0, fm: row.Functional})
	}

	decks, groups := r.aggregate(cands)
	for i, c := range cands {
		deck, aggregated := decks[i]
		if !aggregated {
			deck = models.DeckNone
		}
		r.expand(c, deck, groups[c.fm.Function])
	}

	if profile.BuiltinsEnabled() {
		for _, b := range builtinsFor(device) {
			key := b.key()
			if _, ok := r.ix.entries[key]; ok {
				continue
			}
			r.add(key, b.mapping(), 0)
			r.note(0, models.DiagInference, key.Hex(), fmt.Sprintf("built-in control %s added", b.function))
		}
	}

	return r.ix, r.diags
}

// aggregate assigns decks to functions spread over several global rows. It
// returns the deck per candidate index and the merged source rows per function.
func (r *resolver) aggregate(cands []candidate) (map[int]models.DeckIndex, map[string][]int) {
	var functions []string
	globals := make(map[string][]int)
	distinct := make(map[string]map[models.MessageKey]bool)
	for i, c := range cands {
		if c.fm.Shape != models.ShapeGlobal {
			continue
		}
		fn := c.fm.Function
		if _, ok := globals[fn]; !ok {
			functions = append(functions, fn)
			distinct[fn] = make(map[models.MessageKey]bool)
		}
		globals[fn] = append(globals[fn], i)
		distinct[fn][c.fm.Input.Key()] = true
	}

	decks := make(map[int]models.DeckIndex)
	groups := make(map[string][]int)
	for _, function := range functions {
		idxs := globals[function]
		if len(distinct[function]) < 2 {
			continue
		}

		assigned := make(map[models.MessageKey]models.DeckIndex)
		next := models.DeckIndex(0)
		for _, i := range idxs {
			c := cands[i]
			if c.line > 0 {
				groups[function] = append(groups[function], c.line)
			}

			key := c.fm.Input.Key()
			if d, ok := assigned[key]; ok {
				decks[i] = d
				continue
			}
			if !next.Valid() {
				decks[i] = models.DeckNone
				r.note(c.line, models.DiagInference, key.Hex(),
					fmt.Sprintf("function %s has more than %d global addresses; no deck assigned", function, models.MaxDecks))
				continue
			}
			assigned[key] = next
			decks[i] = next
			next++
		}
	}
	return decks, groups
}

// expand inserts the keys a row produces. deck applies to global rows only.
func (r *resolver) expand(c candidate, deck models.DeckIndex, group []int) {
	fm := c.fm
	switch fm.Shape {
	case models.ShapeBaseOffsets:
		for i, slot := range fm.InputDecks {
			if slot.Kind != models.DeckSlotOffset {
				continue
			}
			ch := fm.Input.Channel + slot.Offset
			addr := fm.Input.WithChannel(ch)
			if ch > 15 {
				r.note(c.line, models.DiagInference, addr.Key().Hex(),
					fmt.Sprintf("channel %d+%d wraps to %d", fm.Input.Channel, slot.Offset, addr.Channel))
			}
			r.insert(addr.Key(), c.mapping(models.DeckIndex(i), nil), c)
		}

	case models.ShapeDirect:
		for i, slot := range fm.InputDecks {
			if slot.Kind != models.DeckSlotAddress {
				continue
			}
			r.insert(slot.Address.Key(), c.mapping(models.DeckIndex(i), nil), c)
		}

	case models.ShapeGlobal:
		if !deck.Valid() {
			group = nil
		}
		r.insert(fm.Input.Key(), c.mapping(deck, group), c)
	}
}

func (c candidate) mapping(deck models.DeckIndex, rows []int) *models.ResolvedMapping {
	m := &models.ResolvedMapping{
		Function:    c.fm.Function,
		ControlType: c.fm.ControlType,
		Deck:        deck,
		Flags:       c.fm.Options,
		Comment:     c.fm.Comment,
		Priority:    c.fm.Options.Priority(),
		ReadOnly:    c.fm.Options.ReadOnly(),
		Placeholder: c.placeholder,
	}
	if rows != nil {
		m.MergeRows(rows...)
	} else if c.line > 0 {
		m.MergeRows(c.line)
	}
	return m
}

// insert applies the collision policy: higher priority wins, a tie goes to the
// later row unless that row is a promoted placeholder.
func (r *resolver) insert(key models.MessageKey, m *models.ResolvedMapping, c candidate) {
	cur, ok := r.owners[key]
	if !ok {
		r.add(key, m, c.line)
		return
	}

	if cur.mapping.SameControl(m) {
		cur.mapping.MergeRows(m.SourceRows...)
		return
	}

	var reason string
	newWins := true
	switch {
	case m.Priority > cur.mapping.Priority:
		reason = fmt.Sprintf("priority %d beats %d", m.Priority, cur.mapping.Priority)
	case m.Priority < cur.mapping.Priority:
		reason = fmt.Sprintf("priority %d beats %d", cur.mapping.Priority, m.Priority)
		newWins = false
	case m.Placeholder && !cur.mapping.Placeholder:
		reason = "placeholder row loses priority tie"
		newWins = false
	default:
		reason = "later row wins priority tie"
	}

	conflict := models.Conflict{Key: key, Winner: m, Superseded: cur.mapping, Reason: reason}
	if newWins {
		r.ix.entries[key] = m
		r.owners[key] = owner{mapping: m, line: c.line}
	} else {
		conflict.Winner, conflict.Superseded = cur.mapping, m
	}
	r.ix.conflicts = append(r.ix.conflicts, conflict)
	r.note(c.line, models.DiagConflict, key.Hex(),
		fmt.Sprintf("%s claimed by %s (%s) and %s (%s): %s",
			key.Hex(), cur.mapping.Function, cur.mapping.Deck, m.Function, m.Deck, reason))
}

func (r *resolver) add(key models.MessageKey, m *models.ResolvedMapping, line int) {
	r.ix.entries[key] = m
	r.ix.order = append(r.ix.order, key)
	r.owners[key] = owner{mapping: m, line: line}
}

func (r *resolver) note(line int, kind models.DiagnosticKind, content, reason string) {
	r.diags = append(r.diags, models.Diagnostic{Line: line, Kind: kind, Content: content, Reason: reason})
}
