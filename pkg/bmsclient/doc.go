/*
Package bmsclient provides the core of the mobile backend client SDK: backend
routing and realm-keyed authentication challenge handling.

# Overview

A Client is configured once with the backend route and GUID. The route may carry a
subzone query parameter naming the region to talk to; it is split off the route and
used to derive the rewrite domain:

	client := bmsclient.New()
	err := client.Initialize(bmsclient.AppContext{Name: "myapp"},
		"https://api.example.com?subzone=eu", "app-guid")

	client.BackendRoute()  // "https://api.example.com"
	client.RewriteDomain() // "eu.api.example.com"

bmsclient.Default() returns a process-wide Client for applications that want one.

# Authentication Listeners

Application code answers challenges by registering an AuthenticationListener for a
realm. When the backend rejects a request with a WWW-Authenticate challenge naming a
registered realm, the request is paused and the listener is asked for credentials:

	err := client.RegisterAuthenticationListener("orders", &bmsclient.ListenerFuncs{
		OnChallenge: func(ctx context.Context, s *bmsclient.ChallengeSession) {
			go func() {
				token, err := promptForToken(ctx, s.Challenge())
				if err != nil {
					s.Cancel()
					return
				}
				s.Submit(bmsclient.BearerCredentials(token))
			}()
		},
	})

Submit resumes the request, which is replayed once with the credentials. Cancel fails
it with a *ChallengeError matching ErrChallengeResolutionFailed. If the request's
context ends first (DefaultTimeout applies when it has no deadline) the cycle fails the
same way and later Submit or Cancel calls are no-ops.

Only one cycle per realm waits on its listener at a time. Concurrent challenges for the
same realm queue in arrival order and each gets its own listener call; different realms
proceed independently.

# Sending Requests

	resp, err := client.HTTPClient().Get("/orders/42")

Relative URLs are resolved against the backend route. Credentials obtained for a realm
are cached by the AuthorizationManager and sent with later requests to the same host
until they expire.
*/
package bmsclient
