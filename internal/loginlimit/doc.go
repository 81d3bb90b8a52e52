// Package loginlimit throttles failed logins against the fake storefront
// backend using Redis fixed-window counters.
package loginlimit
