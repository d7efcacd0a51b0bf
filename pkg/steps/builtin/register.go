package builtin

import "github.com/comtihon/catcher/pkg/step"

// Register adds the built-in steps to r.
func Register(r *step.Registry) {
	r.Register(step.Info{Name: "echo", Summary: "Render a value and print it or write it to a file", Doc: echoDoc}, newEcho)
	r.Register(step.Info{Name: "check", Summary: "Fail the test unless a condition holds", Doc: checkDoc}, newCheck)
	r.Register(step.Info{Name: "stop", Summary: "Stop the test without error", Doc: stopDoc}, newStop)
	r.Register(step.Info{Name: "loop", Summary: "Repeat actions while a condition holds or for each element", Doc: loopDoc}, newLoop)
	r.Register(step.Info{Name: "wait", Summary: "Sleep, or retry actions until they pass", Doc: waitDoc}, newWait)
	r.Register(step.Info{Name: "run", Summary: "Run an aliased include on demand", Doc: runDoc}, newRun)
}

const echoDoc = "# echo\n\n" +
	"Renders `from` and logs it, or writes it to `to` (relative to `CURRENT_DIR`).\n" +
	"The rendered value is the step output.\n\n" +
	"```yaml\n" +
	"- echo: '{{ var }}'\n" +
	"- echo: {from: '{{ RANDOM_STR }}@test.com', register: {email: '{{ OUTPUT }}'}}\n" +
	"- echo: {from: 'constant and {{ var }}', to: debug.output}\n" +
	"```\n"

const checkDoc = "# check\n\n" +
	"Evaluates a condition. Operators: `equals` (`the`, `is`/`is_not`), `contains`\n" +
	"(`the`, `in`/`not_in`), `and`, `or`, `all` and `any` (`of`, with `ITEM` bound).\n" +
	"A string is short for `equals: {the: <string>, is: true}`.\n\n" +
	"```yaml\n" +
	"- check: '{{ OUTPUT.status == 200 }}'\n" +
	"- check:\n" +
	"    equals: {the: '{{ user.name }}', is: alice}\n" +
	"- check:\n" +
	"    all: {of: '{{ users }}', equals: {the: '{{ ITEM.active }}', is: true}}\n" +
	"```\n"

const stopDoc = "# stop\n\n" +
	"Ends the test successfully when `if` holds. Inside a `run` the stop\n" +
	"propagates to the caller.\n\n" +
	"```yaml\n" +
	"- stop:\n" +
	"    if:\n" +
	"      equals: {the: '{{ applied }}', is: 1}\n" +
	"```\n"

const loopDoc = "# loop\n\n" +
	"`while` repeats `do` as long as `if` holds, at most `max_cycle` times.\n" +
	"`foreach` runs `do` for every element of `in` with `ITEM` bound; maps yield\n" +
	"`[key, value]` pairs.\n\n" +
	"```yaml\n" +
	"- loop:\n" +
	"    while:\n" +
	"      if: '{{ counter < 10 }}'\n" +
	"      do:\n" +
	"        echo: {from: '{{ counter + 1 }}', register: {counter: '{{ OUTPUT }}'}}\n" +
	"      max_cycle: 100\n" +
	"- loop:\n" +
	"    foreach:\n" +
	"      in: '{{ files }}'\n" +
	"      do:\n" +
	"        - echo: {from: '{{ ITEM }}', to: '{{ ITEM }}.output'}\n" +
	"```\n"

const waitDoc = "# wait\n\n" +
	"Sleeps for the sum of `days`, `hours`, `minutes`, `seconds`, `milliseconds`,\n" +
	"`microseconds` and `nanoseconds`. With `for`, the time is a budget: the\n" +
	"actions are retried until they all pass. When the budget runs out the\n" +
	"variables are left untouched and the test goes on.\n\n" +
	"```yaml\n" +
	"- wait: {seconds: 5}\n" +
	"- wait:\n" +
	"    seconds: 30\n" +
	"    for:\n" +
	"      http: {get: {url: '{{ service }}/health'}}\n" +
	"```\n"

const runDoc = "# run\n\n" +
	"Runs an include registered with `as`. `tag` (or `alias.tag`) restricts the\n" +
	"run to steps carrying that tag; `variables` override the caller's.\n\n" +
	"```yaml\n" +
	"include:\n" +
	"  file: register_user.yaml\n" +
	"  as: sign_up\n" +
	"steps:\n" +
	"  - run: sign_up\n" +
	"  - run:\n" +
	"      include: sign_up.register\n" +
	"      variables: {username: test}\n" +
	"```\n"
