package browser

// Page-side scripts. The snapshot serializer mirrors the document model in
// pkg/dom: rects in document coordinates, open shadow roots as synthetic
// "#shadow-root" nodes, same-origin iframes captured recursively, cross-origin
// frames flagged and never descended.
const snapshotScript = `() => {
  const keepAttrs = ["id", "name", "type", "value", "placeholder", "required",
    "disabled", "hidden", "for", "href", "role", "aria-label",
    "aria-labelledby", "aria-required", "data-step", "data-stage"];

  const isVisible = (el) => {
    const style = window.getComputedStyle(el);
    if (style.display === "none" || style.visibility === "hidden") return false;
    if (el.type === "hidden" || el.hasAttribute("hidden")) return false;
    return true;
  };

  const serializeNode = (el, win, visible) => {
    const r = el.getBoundingClientRect();
    const node = {
      tag: el.tagName.toLowerCase(),
      attrs: {},
      rect: {
        x: r.left + win.scrollX,
        y: r.top + win.scrollY,
        w: r.width,
        h: r.height,
      },
      visible: visible && isVisible(el),
      disabled: !!el.disabled,
      children: [],
    };
    for (const a of keepAttrs) {
      const v = el.getAttribute(a);
      if (v !== null) node.attrs[a] = v;
    }
    if (Object.keys(node.attrs).length === 0) delete node.attrs;

    for (const child of el.childNodes) {
      if (child.nodeType === Node.TEXT_NODE) {
        const text = child.textContent.trim();
        if (text) node.children.push({ tag: "#text", text, rect: {x:0,y:0,w:0,h:0}, visible: node.visible });
      } else if (child.nodeType === Node.ELEMENT_NODE) {
        node.children.push(serializeNode(child, win, node.visible));
      }
    }
    if (node.children.length === 0) delete node.children;

    if (el.shadowRoot) {
      const host = node;
      const shadow = { tag: "#shadow-root", rect: {x:0,y:0,w:0,h:0}, visible: host.visible, children: [] };
      for (const child of el.shadowRoot.children) {
        shadow.children.push(serializeNode(child, win, host.visible));
      }
      if (shadow.children.length === 0) delete shadow.children;
      host.shadowRoot = shadow;
    }

    if (node.tag === "iframe") {
      try {
        const frameDoc = el.contentDocument;
        if (frameDoc && frameDoc.documentElement) {
          node.frameDoc = serializeDocument(frameDoc, el.contentWindow, node.visible);
        } else {
          node.crossOrigin = true;
        }
      } catch (e) {
        node.crossOrigin = true;
      }
    }

    return node;
  };

  const serializeDocument = (doc, win, visible) => ({
    url: doc.location.href,
    scrollX: win.scrollX,
    scrollY: win.scrollY,
    viewportW: win.innerWidth,
    viewportH: win.innerHeight,
    screenX: win.screenX + (win.outerWidth - win.innerWidth),
    screenY: win.screenY + (win.outerHeight - win.innerHeight),
    devicePixelRatio: win.devicePixelRatio,
    root: serializeNode(doc.documentElement, win, visible),
  });

  return serializeDocument(document, window, true);
}`

// resolveScriptBody resolves a locator hop chain to an element. It mirrors
// Locator.Resolve in pkg/dom and fails with a message instead of guessing.
const resolveScriptBody = `
  const attrsMatch = (el, hop) => {
    for (const [k, v] of Object.entries(hop.attributes || {})) {
      if (el.getAttribute(k) !== v) return false;
    }
    return true;
  };
  const hopMatches = (hop, el) =>
    el.tagName.toLowerCase() === hop.tag && attrsMatch(el, hop);
  const childAt = (scope, hop) => {
    let idx = 0;
    for (const c of scope.children) {
      if (c.tagName.toLowerCase() !== hop.tag) continue;
      if (idx === (hop.index || 0)) return attrsMatch(c, hop) ? c : null;
      idx++;
    }
    return null;
  };
  const resolve = (hops) => {
    if (!hops || hops.length === 0) return { err: "empty locator" };
    let el = document.documentElement;
    if (!hopMatches(hops[0], el)) return { err: "root mismatch" };
    let i = 0;
    while (true) {
      const hop = hops[i];
      let scope = el;
      if (hop.shadow_host) {
        if (!el.shadowRoot) return { err: "hop " + i + " has no shadow root" };
        scope = el.shadowRoot;
      }
      if (hop.frame) {
        let frameDoc = null;
        try { frameDoc = el.contentDocument; } catch (e) {}
        if (!frameDoc || !frameDoc.documentElement) return { err: "hop " + i + " has no frame document" };
        el = frameDoc.documentElement;
        i++;
        if (i >= hops.length) return { err: "locator ends at frame boundary" };
        if (!hopMatches(hops[i], el)) return { err: "frame root mismatch at hop " + i };
        continue;
      }
      i++;
      if (i >= hops.length) return { el };
      const next = childAt(scope, hops[i]);
      if (!next) return { err: "no match at hop " + i };
      el = next;
    }
  };
`

const setValueScript = `(arg) => {` + resolveScriptBody + `
  const res = resolve(arg.hops);
  if (res.err) return res.err;
  const el = res.el;
  if (el.tagName.toLowerCase() === "select") {
    el.value = arg.value;
  } else if (el.type === "checkbox" || el.type === "radio") {
    el.checked = arg.value === "true" || arg.value === "on" || arg.value === el.value;
  } else {
    el.value = arg.value;
  }
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  el.dispatchEvent(new Event("blur", { bubbles: true }));
  return "ok";
}`

const scrollIntoViewScript = `(arg) => {` + resolveScriptBody + `
  const res = resolve(arg.hops);
  if (res.err) return res.err;
  res.el.scrollIntoView({ block: "center", inline: "center" });
  return "ok";
}`

// resolveElementScript hands the resolved element itself back as a handle so
// playwright can act on it natively. An unresolved locator yields null.
const resolveElementScript = `(arg) => {` + resolveScriptBody + `
  const res = resolve(arg.hops);
  if (res.err) return null;
  return res.el;
}`
