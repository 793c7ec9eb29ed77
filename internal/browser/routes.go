package browser

import (
	"net/url"
	"sort"
	"strings"

	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// ClientRoute is a path registered with a single-page application router.
type ClientRoute struct {
	Path      string
	Framework string
}

// Concrete reports whether the route can be visited as is, without filling
// in dynamic segments.
func (r ClientRoute) Concrete() bool {
	return !strings.ContainsAny(r.Path, ":*[(")
}

// routeScript reads the route tables of live router instances. Each entry
// is {path, framework}.
const routeScript = `() => {
	const out = [];
	const add = (path, fw) => { if (typeof path === 'string' && path !== '') out.push({path, framework: fw}); };
	const walk = (list, prefix, fw) => {
		(list || []).forEach(r => {
			if (!r || typeof r.path !== 'string') return;
			let p = r.path.startsWith('/') ? r.path : (prefix.replace(/\/$/, '') + '/' + r.path);
			add(p, fw);
			walk(r.children, p, fw);
		});
	};

	const app = document.querySelector('#app, [data-v-app]');
	if (app && app.__vue__ && app.__vue__.$router) {
		walk(app.__vue__.$router.options.routes, '', 'vue');
	}
	if (app && app.__vue_app__) {
		const router = app.__vue_app__.config.globalProperties.$router;
		if (router && router.getRoutes) router.getRoutes().forEach(r => add(r.path, 'vue'));
	}

	if (window.__NEXT_DATA__ && window.__NEXT_DATA__.page) add(window.__NEXT_DATA__.page, 'next');
	if (window.__BUILD_MANIFEST && window.__BUILD_MANIFEST.sortedPages) {
		window.__BUILD_MANIFEST.sortedPages.forEach(p => { if (!p.startsWith('/_')) add(p, 'next'); });
	}
	if (window.$nuxt && window.$nuxt.$router) walk(window.$nuxt.$router.options.routes, '', 'nuxt');

	const Ember = window.Ember || window.Em;
	if (Ember && Ember.Application && Ember.Application.NAMESPACES && Ember.Application.NAMESPACES.length) {
		try {
			const router = Ember.Application.NAMESPACES[0].__container__.lookup('router:main');
			const names = router._routerMicrolib.recognizer.names;
			for (const name in names) {
				const segs = names[name].map(h => h.handler).filter(s => s !== 'application');
				add('/' + segs.join('/'), 'ember');
			}
		} catch (e) {}
	}

	if (window.angular) {
		try {
			const $route = window.angular.element(document.body).injector().get('$route');
			Object.keys($route.routes).forEach(p => add(p, 'angularjs'));
		} catch (e) {}
	}

	document.querySelectorAll('[routerLink], [ng-href], [data-path]').forEach(el => {
		add(el.getAttribute('routerLink') || el.getAttribute('ng-href') || el.getAttribute('data-path'), 'markup');
	});
	return out;
}`

// clientRoutes reads the page's router tables.
func clientRoutes(page *rod.Page) []ClientRoute {
	res, err := page.Eval(routeScript)
	if err != nil {
		return nil
	}
	return decodeRoutes(res.Value)
}

// decodeRoutes keeps one route per path, dropping hash fragments and
// catch-all entries.
func decodeRoutes(v gson.JSON) []ClientRoute {
	seen := make(map[string]bool)
	var out []ClientRoute
	for _, item := range v.Arr() {
		p := strings.TrimSpace(item.Get("path").Str())
		if i := strings.Index(p, "#"); i >= 0 {
			p = p[:i]
		}
		if p == "" || p == "*" || p == "/*" || strings.HasPrefix(p, "/**") {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			if u, err := url.Parse(p); err != nil || u.IsAbs() {
				continue
			}
			p = "/" + p
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, ClientRoute{Path: p, Framework: item.Get("framework").Str()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
