// Package settings implements the layered configuration cascade used by the
// fluent HTTP client.
//
// # Layers
//
// Every value is resolved by walking an explicit parent chain:
//
//	request -> client -> global -> built-in defaults
//
// A node only stores what was set on it. Reading an unset key falls through to
// the parent; writing a key never touches the parent. A key explicitly set to a
// zero value (0, "", nil) is honored and does not fall through.
//
// # Global Root
//
// The root of every chain is a Global. It is an ordinary value, not a package
// level singleton, so tests can build their own:
//
//	g := settings.NewGlobal()
//	client := g.Settings().Child()
//	request := client.Child()
//
//	client.SetTimeout(5 * time.Second)
//	request.Timeout() // 5s, inherited from client
//
// # Test Layer
//
// A Global can host an active test layer. While it is active, every lookup on
// any node of that Global checks the test layer first:
//
//	test := g.BeginTest()
//	defer g.EndTest()
//	test.SetTimeout(time.Second) // wins over every request and client
//
// # Typed Keys
//
// Keys carry their value type, so callers never assert:
//
//	var retries = settings.NewKey[int]("Retries")
//	settings.Set(node, retries, 3)
//	n := settings.Get(node, retries)
package settings
