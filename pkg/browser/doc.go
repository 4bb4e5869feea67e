// Package browser attaches the watcher to a live Chromium page through
// Playwright.
//
// # Architecture
//
// The package is built around two concepts:
//
//  1. Manager: owns the Playwright driver and every page it launched
//  2. Target: one page, exposed as a page.Target
//
// A Target forwards element queries to Playwright element handles and runs
// small page-side scripts (see package bridge) for the properties Playwright
// has no direct call for: computed style, bound handlers, synthetic events.
//
// # Mutations and navigations
//
// On attach the Target exposes a binding function in the page. Each
// ObserveMutations call installs a MutationObserver that serialises added
// nodes and attribute targets as markup and calls the binding; the Go side
// parses the markup and hands the batch to the subscriber. Main-frame
// navigations, including history changes, are delivered on Navigations.
// The exposed binding survives navigations; observers do not, which is why
// the runner starts a fresh session for every page.
//
// # Lifecycle
//
//  1. Initialize installs and starts Playwright
//  2. Open launches a browser, creates a page and navigates it
//  3. Target.Close closes the page, its context and its browser
//  4. Shutdown closes what is left and stops Playwright
package browser
