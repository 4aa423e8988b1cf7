// Package ir provides the foundational types shared by every layer of the
// module account system: module identity, registry references, declared
// dependencies, outbound messages, payloads and the error taxonomy.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key design constraints:
//   - ModuleReference and Msg are closed sum types (sealed interfaces); every
//     consumer matches them with an exhaustive type switch.
//   - Payloads keep the caller's values; only log and trace bodies built
//     around them are canonical JSON.
//   - All JSON tags use snake_case.
package ir
