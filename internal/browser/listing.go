package browser

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"cravehy/internal/logging"
)

// Selectors for the retailer's styled-components markup. These carry
// generated suffixes and are the part of the scraper that breaks first
// when the site ships a redesign.
const (
	selLocationBar     = "div.LocationBar__Container-sc-x8ezho-6"
	selLocalityInput   = "input[name=\"select-locality\"]"
	selLocationResult  = "div.LocationSearchList__LocationListContainer-sc-93rfr7-0"
	selCategoryLink    = "a[href^=\"/cn/\"]"
	selListingLocator  = "#plpContainer"
	selListingCards    = "#plpContainer div[id][tabindex=\"0\"][role=\"button\"]"
)

// SetLocation drives the location picker on a freshly opened page.
// The site renders no category links until a delivery location is chosen.
func (m *SessionManager) SetLocation(ctx context.Context, sessionID, location string) error {
	timer := logging.StartTimer(logging.CategoryBrowser, "SetLocation")
	defer timer.Stop()

	page, ok := m.Page(sessionID)
	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	page = page.Context(ctx)

	bar, err := page.Timeout(15 * time.Second).Element(selLocationBar)
	if err != nil {
		return fmt.Errorf("location bar not found: %w", err)
	}
	if err := bar.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("click location bar: %w", err)
	}

	input, err := page.Timeout(10 * time.Second).Element(selLocalityInput)
	if err != nil {
		return fmt.Errorf("locality input not found: %w", err)
	}
	if err := input.Input(location); err != nil {
		return fmt.Errorf("type location: %w", err)
	}

	// Suggestions populate asynchronously after typing
	time.Sleep(2 * time.Second)

	result, err := page.Timeout(10 * time.Second).Element(selLocationResult)
	if err != nil {
		return fmt.Errorf("no location suggestions for %q: %w", location, err)
	}
	if err := result.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("select location: %w", err)
	}

	// The page reloads with the category grid once the location is set
	if _, err := page.Timeout(20 * time.Second).Element(selCategoryLink); err != nil {
		return fmt.Errorf("category links did not appear after setting location: %w", err)
	}

	logging.Browser("Location set to %q", location)
	return nil
}

// CollectListing scrolls a product listing page until the card count
// stops growing and returns the product IDs found. Listing cards carry
// the numeric product ID as their DOM id.
func (m *SessionManager) CollectListing(ctx context.Context, sessionID string, maxScrollAttempts int) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryBrowser, "CollectListing")
	defer timer.StopWithInfo()

	page, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	page = page.Context(ctx)

	if _, err := page.Timeout(20 * time.Second).Element(selListingLocator); err != nil {
		return nil, fmt.Errorf("listing container not found: %w", err)
	}

	if maxScrollAttempts <= 0 {
		maxScrollAttempts = 40
	}

	lastCount := -1
	stable := 0
	for attempt := 0; attempt < maxScrollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		count, err := m.countListingCards(page)
		if err != nil {
			return nil, err
		}
		logging.BrowserDebug("scroll attempt %d: %d cards", attempt+1, count)

		// Two consecutive unchanged counts means the grid is exhausted;
		// a single stall can just be slow lazy loading
		if count == lastCount {
			stable++
			if stable >= 2 {
				break
			}
		} else {
			stable = 0
		}
		lastCount = count

		if err := m.scrollListing(page); err != nil {
			return nil, err
		}
		jitterSleep(700*time.Millisecond, 1500*time.Millisecond)
	}

	ids, err := m.listingCardIDs(page)
	if err != nil {
		return nil, err
	}
	logging.Browser("Listing collected: %d products", len(ids))
	return ids, nil
}

func (m *SessionManager) countListingCards(page *rod.Page) (int, error) {
	res, err := page.Eval(fmt.Sprintf(
		`() => document.querySelectorAll(%q).length`, selListingCards,
	))
	if err != nil {
		return 0, fmt.Errorf("count cards: %w", err)
	}
	return res.Value.Int(), nil
}

func (m *SessionManager) scrollListing(page *rod.Page) error {
	_, err := page.Eval(fmt.Sprintf(`() => {
		const c = document.querySelector(%q);
		if (c) { c.scrollTop = c.scrollHeight; }
		else { window.scrollTo(0, document.body.scrollHeight); }
	}`, selListingLocator))
	if err != nil {
		return fmt.Errorf("scroll listing: %w", err)
	}
	return nil
}

func (m *SessionManager) listingCardIDs(page *rod.Page) ([]string, error) {
	res, err := page.Eval(fmt.Sprintf(`() => {
		const out = [];
		const seen = new Set();
		for (const el of document.querySelectorAll(%q)) {
			const id = el.id;
			if (id && /^[0-9]+$/.test(id) && !seen.has(id)) {
				seen.add(id);
				out.push(id);
			}
		}
		return out;
	}`, selListingCards))
	if err != nil {
		return nil, fmt.Errorf("collect card ids: %w", err)
	}

	var ids []string
	for _, v := range res.Value.Arr() {
		ids = append(ids, v.Str())
	}
	return ids, nil
}

// CategoryLinks extracts subcategory links from the current page.
// Returns href/name pairs as rendered; the scraper package absolutizes
// and dedupes them.
func (m *SessionManager) CategoryLinks(ctx context.Context, sessionID string) (map[string]string, error) {
	page, ok := m.Page(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}

	res, err := page.Context(ctx).Eval(fmt.Sprintf(`() => {
		const out = {};
		for (const a of document.querySelectorAll(%q)) {
			const href = a.getAttribute('href');
			const name = (a.innerText || '').trim();
			if (href) { out[href] = name; }
		}
		return out;
	}`, selCategoryLink))
	if err != nil {
		return nil, fmt.Errorf("collect category links: %w", err)
	}

	links := make(map[string]string)
	for href, name := range res.Value.Map() {
		links[href] = name.Str()
	}
	return links, nil
}

// jitterSleep sleeps for a random duration in [min, max]. Uniform
// request pacing is a bot signature.
func jitterSleep(min, max time.Duration) {
	if max <= min {
		time.Sleep(min)
		return
	}
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	time.Sleep(d)
}
