// Package http provides HTTP handlers and middleware for the gym back office API.
//
// Every endpoint except the probes requires `Authorization: Bearer <token>`;
// the token resolves to the staff actor recorded as `changed_by` in contract
// history.
//
//   - POST /bookings, GET /bookings?trainer_id=&client_id=&from=&to=&limit=:
//     create or list training sessions. Bodies exchange the `bookingDTO`
//     defined in booking_handler.go; listings carry the effective status.
//   - GET /bookings/{id}, PATCH /bookings/{id}: read or reschedule a booking.
//   - POST /bookings/{id}/cancel, POST /bookings/{id}/complete: status changes.
//   - POST /contracts, GET /contracts?subject_id=&state=: create or list contracts.
//   - GET /contracts/{id}, GET /contracts/{id}/history, GET /contracts/{id}/verify.
//   - POST /contracts/{id}/freeze|unfreeze|cancel|expire: lifecycle transitions.
//     Body: {"reason"} where applicable.
//   - POST /contracts/{id}/renew: body {"membership_id","start","end","price"};
//     responds with both the expired and the renewed contract.
//   - GET /healthz, GET /metrics: unauthenticated probes.
//
// Failures share one envelope: {"error_code","message","errors"?,"conflicts"?,
// "transition"?}. Validation maps to 422, scheduling conflicts and invalid
// transitions to 409, missing resources to 404, missing credentials to 401 and
// transient storage failures to 503 with Retry-After.
package http
