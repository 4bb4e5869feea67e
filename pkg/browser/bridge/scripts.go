// Package bridge holds the page-side scripts shared by the browser drivers
// and the Go side of the mutation binding.
//
// Element scripts are written as (el, arg) => ... functions. Drivers that
// bind the element as this instead of the first argument wrap them with
// Method.
package bridge

import (
	"fmt"

	"github.com/entrhq/autonext/pkg/page"
)

// BindingName is the page function the injected observers call.
const BindingName = "__autonextMutations"

const (
	AttributeJS = `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`

	TextContentJS = `(el) => el.textContent || ''`

	ComputedStyleJS = `(el, prop) => getComputedStyle(el).getPropertyValue(prop)`

	DisabledJS = `(el) => el.disabled === true || el.hasAttribute('disabled')`

	// ClosestJS returns the element itself, an ancestor, or null.
	ClosestJS = `(el, sel) => el.closest(sel)`

	HasHandlerJS = `(el, kind) => {
	const prop = typeof el.onclick === 'function';
	if (kind === 'primary') return prop;
	const src = el.getAttribute('onclick');
	if (!src) return false;
	return !prop || !String(el.onclick).includes(src);
}`

	InvokeHandlerJS = `(el, kind) => {
	if (kind === 'primary') {
		el.onclick.call(el, new MouseEvent('click', {bubbles: true, cancelable: true}));
		return true;
	}
	const src = el.getAttribute('onclick');
	new Function('event', src).call(el, undefined);
	return true;
}`

	DispatchEventJS = `(el, ev) => {
	const init = {bubbles: ev.bubbles, cancelable: ev.cancelable};
	let event;
	if (ev.kind === 'KeyboardEvent') {
		init.key = ev.key;
		init.code = ev.key;
		if (ev.key === 'Enter') {
			init.keyCode = 13;
			init.which = 13;
		}
		event = new KeyboardEvent(ev.type, init);
	} else {
		event = new MouseEvent(ev.type, init);
	}
	el.dispatchEvent(event);
	return true;
}`

	DescribeJS = `(el) => {
	let s = el.tagName.toLowerCase();
	if (el.id) s += '#' + el.id;
	for (const c of el.classList) s += '.' + c;
	return s;
}`

	// FindByTextJS returns, in document order, elements whose own text
	// nodes contain the text.
	FindByTextJS = `(text) => {
	const out = [];
	const skip = new Set(['SCRIPT', 'STYLE', 'NOSCRIPT', 'TEMPLATE']);
	const walk = (el) => {
		if (skip.has(el.tagName)) return;
		let own = '';
		for (const c of el.childNodes) if (c.nodeType === 3) own += c.nodeValue;
		if (own.includes(text)) out.push(el);
		for (const c of el.children) walk(c);
	};
	if (document.documentElement) walk(document.documentElement);
	return out;
}`

	// ObserveJS installs a MutationObserver that reports batches through
	// the binding. It returns false when the root is missing.
	ObserveJS = `(opts) => {
	const w = window;
	w.__autonextObservers = w.__autonextObservers || {};
	const root = document.querySelector(opts.root);
	if (!root) return false;
	const shallow = (n) => n.nodeType === 1 ? n.cloneNode(false).outerHTML : '';
	const obs = new MutationObserver((muts) => {
		const records = [];
		for (const m of muts) {
			if (m.type === 'childList') {
				const added = [];
				m.addedNodes.forEach((n) => { if (n.nodeType === 1) added.push(n.outerHTML); });
				if (added.length) records.push({type: 'childList', target: shallow(m.target), added: added});
			} else if (m.type === 'attributes') {
				records.push({type: 'attributes', target: shallow(m.target), attributeName: m.attributeName});
			}
		}
		if (records.length) w[opts.binding](JSON.stringify({id: opts.id, records: records}));
	});
	const init = {childList: true, subtree: true, attributes: true};
	if (opts.attributes && opts.attributes.length) init.attributeFilter = opts.attributes;
	obs.observe(root, init);
	w.__autonextObservers[opts.id] = obs;
	return true;
}`

	DisconnectJS = `(id) => {
	const all = window.__autonextObservers;
	if (all && all[id]) {
		all[id].disconnect();
		delete all[id];
	}
	return true;
}`
)

// Method adapts an (el, arg) => ... script for drivers that call functions
// with the element bound to this.
func Method(js string) string {
	return fmt.Sprintf("function (arg) { return (%s)(this, arg); }", js)
}

// ObserveArgs builds the argument of ObserveJS.
func ObserveArgs(id int, opts page.ObserveOptions) map[string]any {
	root := opts.Root
	if root == "" {
		root = "body"
	}
	attrs := make([]any, len(opts.AttributeFilter))
	for i, a := range opts.AttributeFilter {
		attrs[i] = a
	}
	return map[string]any{
		"id":         id,
		"root":       root,
		"attributes": attrs,
		"binding":    BindingName,
	}
}

// EventArgs builds the argument of DispatchEventJS.
func EventArgs(ev page.Event) map[string]any {
	return map[string]any{
		"kind":       string(ev.Kind),
		"type":       ev.Type,
		"key":        ev.Key,
		"bubbles":    ev.Bubbles,
		"cancelable": ev.Cancelable,
	}
}
