package shell

// BashPlugin installs a DEBUG trap that logs each command with an epoch
// timestamp while a termctx session is running.
const BashPlugin = `# termctx shell plugin, generated by "termctx hook install bash"
# Source this file from your ~/.bashrc:
#   source ~/.config/termctx/termctx.plugin.bash

_termctx_dir="${XDG_DATA_HOME:-$HOME/.local/share}/termctx"

_termctx_preexec() {
  [[ -f "$_termctx_dir/session.json" ]] || return
  [[ -n "$COMP_LINE" ]] && return
  local cmd="$BASH_COMMAND"
  [[ "$cmd" == _termctx_* ]] && return
  [[ "$cmd" =~ ^[[:space:]]*(.*\/)?termctx([[:space:]]|$) ]] && return
  printf '%s\t%s\n' "$(date +%s)" "${cmd//$'\n'/ }" >> "$_termctx_dir/commands.log"
}

trap '_termctx_preexec' DEBUG
`
