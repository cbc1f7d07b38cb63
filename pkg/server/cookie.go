// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/uitsmijter/uitsmijter/pkg/clientinfo"
	"github.com/uitsmijter/uitsmijter/pkg/config"
)

// cookieDomain picks the tenant's interceptor cookie domain when set,
// otherwise the responsible domain of the request.
func cookieDomain(ci *clientinfo.ClientInfo) string {
	if ci.Tenant != nil && ci.Tenant.Config.Interceptor != nil &&
		ci.Tenant.Config.Interceptor.CookieDomain != "" {
		return ci.Tenant.Config.Interceptor.CookieDomain
	}
	return ci.ResponsibleDomain
}

// setSSOCookie attaches the signed token as SSO cookie.
func (s *Server) setSSOCookie(w http.ResponseWriter, ci *clientinfo.ClientInfo, tokenString string) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.CookieName,
		Value:    tokenString,
		Path:     "/",
		Domain:   cookieDomain(ci),
		MaxAge:   int(s.Settings.CookieExpiration.Seconds()),
		HttpOnly: true,
		Secure:   s.Settings.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSSOCookie expires the SSO cookie.
func (s *Server) clearSSOCookie(w http.ResponseWriter, ci *clientinfo.ClientInfo) {
	http.SetCookie(w, &http.Cookie{
		Name:     config.CookieName,
		Value:    "",
		Path:     "/",
		Domain:   cookieDomain(ci),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Settings.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
