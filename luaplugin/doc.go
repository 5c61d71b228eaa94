// Package luaplugin makes Lua scripts loadable as plugin classes.
//
// A plugin directory X containing X.lua is imported by compiling the script
// once and registering class X. Every instance runs in its own sandboxed
// state with only the base, table, string and math libraries opened.
//
// Scripts see a global "plugin" table:
//
//	plugin.name, plugin.id
//	plugin.subscribe(event [, handler])
//	plugin.unsubscribe(event)            -- "*" for every event
//	plugin.setting(key [, default])
//	plugin.log(message)
//
// Optional globals init() and disable() run on load and unload. A handler is
// a global function receiving the event, which offers event:name(),
// event:get(key [, default]), event:set(key, value), event:stop() and
// event:stopped().
package luaplugin
