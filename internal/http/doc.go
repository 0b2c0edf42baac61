// Package http exposes the attendance coordinator over JSON and websockets.
//
// Public endpoints:
//   - POST /auth/signup, POST /auth/signin: password sign-up and sign-in. Both
//     respond with {"token","expires_at","user"} and set the session cookie.
//   - GET /auth/oauth/{provider}: redirects to the provider after setting the
//     signed state cookie. GET /auth/oauth/{provider}/callback completes the flow.
//   - POST /auth/signout: revokes the presented token and clears the cookie.
//   - GET /healthz: store reachability.
//
// Every other endpoint requires a token in the Authorization header (Bearer)
// or the session cookie:
//   - GET /me
//   - GET|POST /rooms, POST /rooms/join, GET /rooms/{roomID}/members?status=
//   - GET /memberships/pending, POST /memberships/{memberID}/approve|reject
//   - GET|POST /rooms/{roomID}/schedules, POST /rooms/{roomID}/schedules/pattern,
//     GET /schedules/upcoming?days=, DELETE /schedules/{scheduleID}
//   - POST /rooms/{roomID}/change-requests, GET /change-requests/pending,
//     GET /change-requests/mine?status=, POST /change-requests/{requestID}/approve|reject
//   - GET /notifications?unread=&limit=, POST /notifications/{notificationID}/read
//   - GET /live: websocket stream of view refresh events, see package live.
//
// Field names are snake_case, instants are epoch milliseconds and calendar
// days are YYYY-MM-DD strings. Errors use {"error_code","message","errors"}.
package http
